// Package container provides ram disk backed containers whose namespaces are
// held by a long-lived manager process.
//
// # Overview
//
// Create re-executes the current binary as the manager (see Init). The manager
// unshares mount, uts and ipc namespaces (plus user namespace when not root),
// mounts a size-bounded tmpfs, extracts the image archive into it and then
// serves control requests on a unix seqpacket socket at
// <StateDir>/manager-<pid>.sock.
//
// Run and Exec fork a worker that joins the manager's namespaces, chroots into
// the mount point and executes the command. The manager only holds the
// namespaces and never runs user commands itself.
//
// # Protocol
//
// Every connection carries exactly one request, encoded by CBOR, and at most
// one reply. The creator always initiates:
//
// ## setup (must be the first connection)
//
// - send: setup{image, size, dirs, mirror, hostname, binds}
// - reply: ok / error{reason, message}
//
// ## info
//
// - send: info
// - reply: mountpoint{path}
//
// ## terminate
//
// - send: terminate
// - reply: (connection closed, manager exits)
//
// Any other message after setup is logged and the connection is closed without
// reply. Any message other than setup first makes the manager exit.
package container
