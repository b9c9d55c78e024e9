package logging

import (
	"os"

	"go.uber.org/zap"
)

// New builds the process logger. Development mode (human-readable console
// output, debug level) is selected by MD_ENV=dev; production JSON otherwise.
func New() (*zap.Logger, error) {
	if os.Getenv("MD_ENV") == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
