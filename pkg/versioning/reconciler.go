package versioning

// Reconciler collapses concurrent siblings into one value
type Reconciler interface {
	Resolve(values []VersionedValue) []byte
}

// LastWriteWinsReconciler picks the sibling with the newest wall-clock
// timestamp. Ties go to the lexically greater origin so every node agrees.
type LastWriteWinsReconciler struct{}

func (r *LastWriteWinsReconciler) Resolve(values []VersionedValue) []byte {
	if len(values) == 0 {
		return nil
	}

	latest := values[0]
	for _, v := range values[1:] {
		if v.Timestamp > latest.Timestamp ||
			(v.Timestamp == latest.Timestamp && v.Origin > latest.Origin) {
			latest = v
		}
	}

	return latest.Data
}

// ApplicationReconciler allows custom application logic
type ApplicationReconciler struct {
	ResolveFn func([]VersionedValue) []byte
}

func (r *ApplicationReconciler) Resolve(values []VersionedValue) []byte {
	if len(values) == 0 {
		return nil
	}
	if r.ResolveFn != nil {
		return r.ResolveFn(values)
	}
	return values[0].Data
}
