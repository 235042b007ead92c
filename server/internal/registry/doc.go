// Package registry tracks which viewer ids of one channel map to which live
// connections. A viewer id maps to at most one connection; re-registering an
// id replaces the old connection. Snapshot returns a copy taken under the
// lock so broadcasts never iterate a map that is being resized.
package registry
