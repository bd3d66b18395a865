package repositorycache

// checkQuery rejects queries a backend would silently answer wrong. A point
// lookup backend asked for an attribute search would return partial or empty
// results, so such queries fail before any repository call is made.
func checkQuery[K comparable, Q Query[K]](op string, q Q, nonPrimaryKeyQueries bool) error {
	if q.RestrictedToKeys() || nonPrimaryKeyQueries {
		return nil
	}
	return &UnsupportedQueryError{Op: op, Query: q}
}
