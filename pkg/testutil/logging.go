package testutil

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Program logs are only useful when a test run asks for them, so they are
// discarded unless go test was invoked with -v.
func init() {
	logrus.SetLevel(logrus.TraceLevel)
	if !verbose(os.Args) {
		logrus.SetOutput(io.Discard)
	}
}

func verbose(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-test.v", "-test.v=true":
			return true
		}
	}
	return false
}
