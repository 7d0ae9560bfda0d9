// Package installable runs a resource's asynchronous setup and teardown on
// an eventloop.Runtime behind a synchronous, scoped API.
//
// The resource's Install method is one unit of work: it sets up, calls the
// ready function, waits on the stop channel ready returned, and tears down.
// The Installer turns that into:
//
//	inst, err := installer.Install(rt) // blocks until ready or fails
//	if err != nil {
//	    return err
//	}
//	defer inst.Close() // signals stop, waits for teardown
//
// Both waits are bounded (five seconds by default). Install on an installer
// that is already installed fails immediately with ErrAlreadyInstalled.
package installable
