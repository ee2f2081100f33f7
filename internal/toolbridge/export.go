package toolbridge

// ToolSpec describes one catalog tool for callers outside this package,
// namely the Agent Driver, which must advertise the exact same tool set and
// JSON Schemas to the external model that Call enforces on the way back in.
type ToolSpec struct {
	Name        ToolName
	Description string
	Schema      string
}

var descriptions = map[ToolName]string{
	TaskStatus:             "Report the project's epic/task/test progress counts.",
	GetNextTask:            "Return the next not-done task in ordinal order, or null if none remain.",
	ListEpics:              "List the project's epics in ordinal order.",
	GetEpic:                "Fetch one epic by id.",
	CreateEpic:             "Create a new epic under the project.",
	ExpandEpic:             "Append new tasks to an existing epic, continuing its ordinal sequence; demotes a done epic back to in_progress.",
	ListTasks:              "List an epic's tasks in ordinal order.",
	GetTask:                "Fetch one task by id.",
	CreateTask:             "Create a new task under an epic.",
	StartTask:              "Stamp a task's started_at and move it from pending to in_progress; idempotent once started.",
	ListTests:              "List a task's tests.",
	GetTest:                "Fetch one test by id.",
	CreateTest:             "Create a new test under a task.",
	UpdateTaskStatus:       "Mark a task done or not done; done requires every test on the task to have outcome pass.",
	UpdateTestResult:       "Record a test's outcome (pass, fail, or unknown); flipping a done task's test off pass demotes the task.",
	LogSession:             "Append a free-form note to the session's event log without mutating roadmap state.",
	Exec:                   "Run a shell command in the project's sandbox workspace, subject to the security gate.",
	SessionWrapupRequested: "Signal that this session's goal is accomplished and the agent is ready to stop.",
}

// Catalog returns the fixed tool set this package exposes, in a form
// independent of the JSON Schema validation machinery, for advertising to
// an external model.
func Catalog() []ToolSpec {
	out := make([]ToolSpec, 0, len(schemas))
	for name, schema := range schemas {
		out = append(out, ToolSpec{Name: name, Description: descriptions[name], Schema: schema})
	}
	return out
}
