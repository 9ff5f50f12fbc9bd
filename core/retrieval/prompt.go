package retrieval

import (
	"fmt"
	"strings"
)

const answerInstructions = `You are a helpful kiosk assistant. Answer the question using only the information in the documents below.
If the documents do not contain the answer, say that the information is not available.
Reply in Markdown.`

func buildPrompt(query Query, context Context) string {
	var b strings.Builder
	b.WriteString(answerInstructions)
	b.WriteString("\n\n")

	if len(query.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range query.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("Documents:\n")
	if context.IsEmpty() {
		b.WriteString("(no relevant documents were found)\n")
	}
	for _, passage := range context.Passages {
		fmt.Fprintf(&b, "[%s #%d]\n%s\n\n", passage.DocumentID, passage.ChunkIndex, strings.TrimSpace(passage.Text))
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", query.Text)
	return b.String()
}
