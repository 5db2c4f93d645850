// Package someipconfig is the read-only configuration surface consumed by
// the routing core: client-id pool bounds, dispatcher sizing, per-event
// cycle/debounce tuning, and the security posture. LoadYAML and ParseYAML
// build a StaticConfig from a YAML file or bytes via gopkg.in/yaml.v3.
package someipconfig
