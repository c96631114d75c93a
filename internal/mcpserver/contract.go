package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/estatedesk/internal/models"
)

const relationsURI = "estatedesk://relations"

// RelationsContract renders the relation catalog as Markdown for LLM
// consumers deciding which relation name to pass to the link tools.
func RelationsContract() string {
	var b strings.Builder
	b.WriteString("# EstateDesk Relations\n\n")
	b.WriteString("Links are directed: a relation connects one source entity to many targets.\n")
	b.WriteString("Use `show_links` to see what is assigned and what is still available, then\n")
	b.WriteString("`assign_link` / `remove_link` with the target id.\n\n")
	b.WriteString("| Relation | Source kind | Target kind | Meaning |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range models.Relations() {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", r.Name, r.Source, r.Target, r.Description)
	}
	b.WriteString("\n## Entity kinds\n\n")
	for _, k := range models.Kinds() {
		fmt.Fprintf(&b, "- `%s`\n", k)
	}
	b.WriteString("\nMemo bodies may reference entities inline as `[[kind:id]]` or `[[kind:id|label]]`;\n")
	b.WriteString("referenced entities are linked automatically when the memo is saved.\n")
	return b.String()
}
