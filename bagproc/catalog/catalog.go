// Package catalog maps bag topic names to their processing kind. The
// catalog is externally configured; topics it does not know are ignored by
// the pipeline.
package catalog

import (
	"sort"

	radix "github.com/armon/go-radix"
	ignore "github.com/sabhiram/go-gitignore"
)

// Kind classifies how a topic's messages are decoded and materialized.
type Kind int

const (
	KindCamera Kind = iota
	KindPose
	KindImu
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindPose:
		return "pose"
	case KindImu:
		return "imu"
	default:
		return "unknown"
	}
}

// Entry is one configured topic with its kind.
type Entry struct {
	Topic string
	Kind  Kind
}

// Catalog resolves topic names to kinds. Registered names match exactly or
// as the longest registered prefix, so sub-streams under a configured
// camera root resolve without enumerating each one. Ignore patterns
// (gitignore syntax) are applied before resolution.
type Catalog struct {
	tree    *radix.Tree
	ignored *ignore.GitIgnore
}

// New builds a catalog from per-kind topic name lists and ignore patterns.
func New(camera, pose, imu, ignorePatterns []string) *Catalog {
	c := &Catalog{tree: radix.New()}

	add := func(topics []string, kind Kind) {
		for _, topic := range topics {
			c.tree.Insert(topic, kind)
		}
	}
	add(camera, KindCamera)
	add(pose, KindPose)
	add(imu, KindImu)

	if len(ignorePatterns) > 0 {
		c.ignored = ignore.CompileIgnoreLines(ignorePatterns...)
	}
	return c
}

// Resolve returns the kind for a topic name, preferring an exact match and
// falling back to the longest registered prefix.
func (c *Catalog) Resolve(topic string) (Kind, bool) {
	if c.ignored != nil && c.ignored.MatchesPath(topic) {
		return 0, false
	}
	if v, ok := c.tree.Get(topic); ok {
		return v.(Kind), true
	}
	if _, v, ok := c.tree.LongestPrefix(topic); ok {
		return v.(Kind), true
	}
	return 0, false
}

// Plan classifies a bag's topic names and returns the recognized ones in
// processing order: all cameras, then poses, then imus, preserving the
// given order within each kind. Unrecognized and ignored names are left
// out.
func (c *Catalog) Plan(names []string) []Entry {
	var out []Entry
	for _, name := range names {
		if kind, ok := c.Resolve(name); ok {
			out = append(out, Entry{Topic: name, Kind: kind})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
