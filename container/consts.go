package container

import "time"

const (
	managerName = "rootbox-manager"

	// envLogLevel passes the creator's log level to the manager
	envLogLevel = "ROOTBOX_LOG_LEVEL"

	// readyFd is the pipe the manager writes one byte to once listening
	readyFd = 3

	defaultHostName       = "rootbox"
	defaultRequestTimeout = 5 * time.Second
	defaultSetupTimeout   = 2 * time.Minute
	defaultStopTimeout    = 10 * time.Second

	reasonProvisioning = "provisioning"

	// PathEnv defines the default PATH for commands run inside the container
	PathEnv = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// manager exit statuses
const (
	exitTerminated   = 0
	exitFailure      = 1
	exitProvisioning = 2
	exitViolation    = 3
)
