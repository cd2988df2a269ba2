package spool

import "strings"

// ParseTags splits a comma-separated tag string into a trimmed, deduplicated
// list with the original order preserved.
func ParseTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	seen := make(map[string]bool)
	var tags []string
	for _, part := range strings.Split(s, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// HasTag reports whether the spool carries the given tag.
func (s *Spool) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
