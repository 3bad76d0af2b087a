package planning

import (
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
)

// Directive is the system instruction sent with every planning request
var Directive = buildDirective()

func buildDirective() string {
	types := make([]string, len(models.TaskTypes))
	for i, t := range models.TaskTypes {
		types[i] = fmt.Sprintf("%q", t)
	}

	return `You are an expert AI software architect. Your sole responsibility is to break down a user's request into a precise, step-by-step list of tasks.

You must analyze the user's request and create a JSON array of "AtomicTask" objects.
For a simple request, you might only need one or two tasks. For a complex request, many more.
The available task types are: ` + strings.Join(types, ", ") + `.

Every object may only contain these fields: "id", "description", "type", "target_files", "prerequisites", "success_criteria", "priority", "estimated_complexity".
"description" is required. "estimated_complexity" is an integer from 1 to 10. "prerequisites" lists the ids of tasks that must complete first.

**Example Request:** "Create a python script that prints the current time"
**Example Output:**
[
  {
    "id": "1",
    "description": "Create a Python file named 'main.py' that imports the datetime library and prints the current time.",
    "type": "create_file",
    "target_files": ["main.py"],
    "prerequisites": [],
    "success_criteria": "The file 'main.py' exists and contains Python code to print the current time.",
    "priority": 1,
    "estimated_complexity": 2
  }
]

Now, analyze the real user request and generate the JSON plan.
Return ONLY the raw JSON array, with no explanations or markdown.`
}

// UserMessage formats the task-specific planning input
func UserMessage(userTask string) string {
	return "User Request: " + userTask
}
