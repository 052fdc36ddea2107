package nconf

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadFromEnv fills face from environment variables named after prefix.
// Variables are first loaded from filename, or from a `.env` file in the
// working directory when it exists. Variables already set win over the file.
func LoadFromEnv(prefix, filename string, face interface{}) error {
	var err error
	if filename == "" {
		if err = godotenv.Load(); os.IsNotExist(err) {
			err = nil
		}
	} else {
		err = godotenv.Load(filename)
	}
	if err != nil {
		return err
	}

	return envconfig.Process(prefix, face)
}
