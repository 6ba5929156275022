package sshx

import (
	"regexp"
	"strings"
)

var promptPattern = regexp.MustCompile(`.*[#$]( )?`)

// CleanOutput strips what an interactive shell adds around the output of
// command: banners, the prompt with the echoed command and trailing prompts.
func CleanOutput(text, command string) string {
	if command != "" && strings.HasPrefix(text, command) {
		text = strings.TrimLeft(text[len(command):], " \t\r\n")
	}

	if command != "" {
		echoed := regexp.MustCompile(`.*([#$])( )*` + regexp.QuoteMeta(command))
		if loc := lastMatch(echoed, text); loc != nil {
			text = text[loc[1]:]
		}
	}

	text = promptPattern.ReplaceAllString(text, "")
	if command != "" {
		text = strings.ReplaceAll(text, command+"\r\n", "")
	}
	return strings.TrimSpace(text)
}

func lastMatch(re *regexp.Regexp, s string) []int {
	all := re.FindAllStringIndex(s, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
