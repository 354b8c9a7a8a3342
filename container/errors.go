package container

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrProtocolViolation is returned when a peer sends a message not allowed in
	// the current manager state
	ErrProtocolViolation = fmt.Errorf("container: protocol violation: %w", errdefs.ErrFailedPrecondition)

	// ErrProvisioning is returned by the manager when the ram disk could not be
	// prepared or populated
	ErrProvisioning = fmt.Errorf("container: provisioning failed: %w", errdefs.ErrInternal)

	// ErrSetupFailed is returned by Create when the manager did not acknowledge setup
	ErrSetupFailed = fmt.Errorf("container: setup handshake failed: %w", errdefs.ErrFailedPrecondition)

	// ErrManagerUnreachable is returned when the control socket is missing or refuses
	// connections, which means the manager is gone
	ErrManagerUnreachable = fmt.Errorf("container: manager unreachable: %w", errdefs.ErrUnavailable)

	// ErrPermissionOrLookup is returned when the manager namespaces could not be
	// opened or joined
	ErrPermissionOrLookup = errors.New("container: cannot acquire manager namespaces")
)
