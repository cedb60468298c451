// Package domain holds the core types and collaborator interfaces shared
// across the bridge. It has no dependencies on infrastructure packages.
package domain
