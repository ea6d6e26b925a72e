// Package membership computes the group changes needed to align a
// directory user's memberships with the memberships it should have.
package membership

import "sort"

// Delta lists the memberships to grant and to revoke for one user.
// Both slices are sorted and free of duplicates.
type Delta struct {
	ToAdd    []string
	ToRemove []string
}

// Diff compares the groups a user should belong to against the groups it
// currently belongs to.
//
// desired and baseline together form the target set: baseline holds the
// groups every user of its kind receives, desired the ones requested for
// this user. current is what the directory reports today. managed bounds
// revocation: only a current membership listed in managed may appear in
// ToRemove, so memberships granted out of band by a directory admin are
// never touched. A nil managed set disables revocation entirely.
//
// Inputs are treated as sets: duplicates and empty strings are ignored.
func Diff(desired, baseline, current, managed []string) Delta {
	want := toSet(desired)
	for name := range toSet(baseline) {
		want[name] = struct{}{}
	}
	have := toSet(current)
	revocable := toSet(managed)

	var delta Delta
	for name := range want {
		if _, ok := have[name]; !ok {
			delta.ToAdd = append(delta.ToAdd, name)
		}
	}
	for name := range have {
		if _, ok := revocable[name]; !ok {
			continue
		}
		if _, ok := want[name]; ok {
			continue
		}
		delta.ToRemove = append(delta.ToRemove, name)
	}

	sort.Strings(delta.ToAdd)
	sort.Strings(delta.ToRemove)
	return delta
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}
