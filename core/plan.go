package core

import (
	"sort"
	"strings"
)

// SyncPlan is the diff between desired membership (the chat channel) and
// actual membership (the target resource). Identities are keyed by
// normalized email; the first occurrence of a key wins so duplicated chat
// accounts never double an operation.
type SyncPlan struct {
	ToAdd     []Identity
	ToRemove  []Identity
	Unchanged []Identity
}

func (p SyncPlan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// ComputePlan diffs desired against actual. Identities whose key appears in
// excluded are invisible to the diff in both directions; service accounts
// and maintenance users stay exactly where they are. Results come back
// sorted by key so plan application is deterministic.
func ComputePlan(desired []Identity, actual []Identity, excluded map[string]bool) SyncPlan {
	desiredByKey := identityIndex(desired)
	actualByKey := identityIndex(actual)

	plan := SyncPlan{}
	for key, identity := range desiredByKey {
		if _, ok := actualByKey[key]; ok {
			plan.Unchanged = append(plan.Unchanged, identity)
			continue
		}
		if excluded[key] {
			continue
		}
		plan.ToAdd = append(plan.ToAdd, identity)
	}
	for key, identity := range actualByKey {
		if _, ok := desiredByKey[key]; ok {
			continue
		}
		if excluded[key] {
			plan.Unchanged = append(plan.Unchanged, identity)
			continue
		}
		plan.ToRemove = append(plan.ToRemove, identity)
	}

	sortIdentities(plan.ToAdd)
	sortIdentities(plan.ToRemove)
	sortIdentities(plan.Unchanged)
	return plan
}

// ExcludedSet normalizes a configured exclusion list into key form.
func ExcludedSet(emails []string) map[string]bool {
	set := map[string]bool{}
	for _, email := range emails {
		key := strings.ToLower(strings.TrimSpace(email))
		if key == "" {
			continue
		}
		set[key] = true
	}
	return set
}

func identityIndex(identities []Identity) map[string]Identity {
	index := map[string]Identity{}
	for _, identity := range identities {
		key := identity.Key()
		if key == "" {
			continue
		}
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = identity
	}
	return index
}

func sortIdentities(identities []Identity) {
	sort.Slice(identities, func(left int, right int) bool {
		return identities[left].Key() < identities[right].Key()
	})
}
