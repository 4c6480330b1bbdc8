package llm

import "strings"

// NormalizeMessages reshapes an arbitrary conversation into the form chat
// providers accept:
//   - empty messages are dropped
//   - unknown roles become user turns
//   - all system messages are hoisted and merged into one leading system turn
//   - consecutive same-role messages are merged
//   - trailing assistant turns are dropped so the conversation ends on user
func NormalizeMessages(in []Message) []Message {
	var systems []string
	var turns []Message

	for _, m := range in {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}

		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "system":
			systems = append(systems, content)
			continue
		case "user", "assistant":
		default:
			role = "user"
		}

		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + content
			continue
		}
		turns = append(turns, Message{Role: role, Content: content})
	}

	for len(turns) > 0 && turns[len(turns)-1].Role == "assistant" {
		turns = turns[:len(turns)-1]
	}

	if len(turns) == 0 {
		return nil
	}

	out := make([]Message, 0, len(turns)+1)
	if len(systems) > 0 {
		out = append(out, Message{Role: "system", Content: strings.Join(systems, "\n\n")})
	}
	return append(out, turns...)
}
