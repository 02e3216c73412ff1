package playbook

// FilterUpdatesByStep returns the updates recorded against one step, in the
// original (append) order.
func FilterUpdatesByStep(updates []*Update, stepID string) []*Update {
	var out []*Update
	for _, u := range updates {
		if u != nil && u.StepID == stepID {
			out = append(out, u)
		}
	}
	return out
}
