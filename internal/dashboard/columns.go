package dashboard

// Column describes one table column for a dashboard view. Both roles share
// one declarative configuration instead of per-view inline layouts.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

var hospitalColumns = []Column{
	{Key: "name", Label: "Patient"},
	{Key: "current_diagnosis", Label: "Diagnosis"},
	{Key: "treatment_plan", Label: "Treatment Plan"},
	{Key: "status", Label: "Status"},
	{Key: "created_at", Label: "Registered"},
}

var ngoColumns = []Column{
	{Key: "name", Label: "Patient"},
	{Key: "hospital", Label: "Referring Hospital"},
	{Key: "current_diagnosis", Label: "Diagnosis"},
	{Key: "medical_history", Label: "Requirements"},
	{Key: "actions", Label: "Actions"},
}
