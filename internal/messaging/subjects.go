// Package messaging defines standard subject names for the loomline event bus.
package messaging

// Subject constants for the inter-module event bus.
// Follow the pattern: loomline.events.{module}
const (
	// SubjectBroadcast carries envelopes addressed to every module.
	SubjectBroadcast = "loomline.events.broadcast"

	subjectPrefix = "loomline.events."
)

// ModuleSubject returns the point-to-point subject for a module.
// Example: loomline.events.finance
func ModuleSubject(module string) string {
	return subjectPrefix + module
}

// ModuleQueue returns the queue group name for a module's worker pool.
// Instances of the same module share the group so each envelope is
// processed once per module.
func ModuleQueue(module string) string {
	return module + "-workers"
}
