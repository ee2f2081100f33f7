package toolbridge

// ToolName identifies one operation in the fixed catalog the Tool Bridge
// exposes to the external agent, per spec.md §4.5.
type ToolName string

const (
	TaskStatus             ToolName = "task_status"
	GetNextTask            ToolName = "get_next_task"
	ListEpics              ToolName = "list_epics"
	GetEpic                ToolName = "get_epic"
	CreateEpic             ToolName = "create_epic"
	ExpandEpic             ToolName = "expand_epic"
	ListTasks              ToolName = "list_tasks"
	GetTask                ToolName = "get_task"
	CreateTask             ToolName = "create_task"
	StartTask              ToolName = "start_task"
	ListTests              ToolName = "list_tests"
	GetTest                ToolName = "get_test"
	CreateTest             ToolName = "create_test"
	UpdateTaskStatus       ToolName = "update_task_status"
	UpdateTestResult       ToolName = "update_test_result"
	LogSession             ToolName = "log_session"
	Exec                   ToolName = "exec"
	SessionWrapupRequested ToolName = "session_wrapup_requested"
)

// schemas maps each catalog tool to the JSON Schema its payload must
// satisfy. Every payload carries project_id so the bridge can enforce
// ownership (the agent for project P cannot read or mutate project Q)
// before the call reaches task-store or sandbox logic.
var schemas = map[ToolName]string{
	TaskStatus: `{
		"type": "object",
		"properties": {"project_id": {"type": "string", "minLength": 1}},
		"required": ["project_id"]
	}`,
	GetNextTask: `{
		"type": "object",
		"properties": {"project_id": {"type": "string", "minLength": 1}},
		"required": ["project_id"]
	}`,
	ListEpics: `{
		"type": "object",
		"properties": {"project_id": {"type": "string", "minLength": 1}},
		"required": ["project_id"]
	}`,
	GetEpic: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"epic_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "epic_id"]
	}`,
	CreateEpic: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"ordinal": {"type": "integer", "minimum": 0},
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"}
		},
		"required": ["project_id", "ordinal", "title"]
	}`,
	ExpandEpic: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"epic_id": {"type": "string", "minLength": 1},
			"tasks": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"}
					},
					"required": ["title"]
				}
			}
		},
		"required": ["project_id", "epic_id", "tasks"]
	}`,
	ListTasks: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"epic_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "epic_id"]
	}`,
	GetTask: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "task_id"]
	}`,
	CreateTask: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"epic_id": {"type": "string", "minLength": 1},
			"ordinal": {"type": "integer", "minimum": 0},
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"}
		},
		"required": ["project_id", "epic_id", "ordinal", "title"]
	}`,
	StartTask: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "task_id"]
	}`,
	ListTests: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "task_id"]
	}`,
	GetTest: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"test_id": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "test_id"]
	}`,
	CreateTest: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1},
			"description": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "task_id", "description"]
	}`,
	UpdateTaskStatus: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1},
			"done": {"type": "boolean"}
		},
		"required": ["project_id", "task_id", "done"]
	}`,
	UpdateTestResult: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"test_id": {"type": "string", "minLength": 1},
			"outcome": {"type": "string", "enum": ["pass", "fail", "unknown"]}
		},
		"required": ["project_id", "test_id", "outcome"]
	}`,
	LogSession: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"note": {"type": "string", "minLength": 1}
		},
		"required": ["project_id", "note"]
	}`,
	Exec: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"command": {"type": "string", "minLength": 1},
			"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 3600}
		},
		"required": ["project_id", "command"]
	}`,
	SessionWrapupRequested: `{
		"type": "object",
		"properties": {
			"project_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		},
		"required": ["project_id"]
	}`,
}
