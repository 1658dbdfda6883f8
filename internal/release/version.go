package release

import "golang.org/x/mod/semver"

// IsNewer reports whether candidate is a strictly newer version than
// current. Both are normalized to carry a leading "v". If either side is
// not valid semver the comparison falls back to plain inequality, so a
// feed that stops using semver tags still updates rather than wedging.
func IsNewer(current, candidate string) bool {
	cur := withV(current)
	cand := withV(candidate)

	if !semver.IsValid(cur) || !semver.IsValid(cand) {
		return current != candidate
	}
	return semver.Compare(cand, cur) > 0
}

func withV(v string) string {
	if v == "" || v[0] == 'v' {
		return v
	}
	return "v" + v
}
