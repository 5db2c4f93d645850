// Package registry is the single source of truth for service, event, and
// eventgroup existence and properties: who offers what, who has requested
// it, and whether the combination of offered and requested major/minor
// versions is compatible.
package registry
