// Package ids allocates 16-bit ClientIDs to applications attaching to a
// named network and elects the first attacher as that network's routing
// host. The used-id set is persisted to a bbolt database so the pool
// survives process restarts and stays unique across processes sharing the
// same network on one host.
package ids
