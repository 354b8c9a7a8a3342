package container

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// the test binary is also the manager
	Init()
	os.Exit(m.Run())
}
