// Package cli — prompt.go implements the interactive yes/no prompt used
// by the up and down commands.
//
// All prompts default to "no": pressing Enter, closing stdin, or any
// read failure declines the question. The --yes flag short-circuits the
// prompt entirely for non-interactive use.
package cli

import (
	"errors"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/mmr-tortoise/jenkins-up/internal/provision"
)

// newConfirmer returns the Confirmer wired into the provisioner.
// With --yes it answers every question affirmatively without prompting.
func newConfirmer() provision.Confirmer {
	if assumeYes {
		return func(string) (bool, error) { return true, nil }
	}
	return askConfirm
}

// askConfirm asks a single yes/no question on the terminal.
//
// Ctrl-C at a prompt is a cancellation, not a "no": the error is
// returned so the procedure terminates instead of continuing with the
// default answer. A non-terminal or closed stdin counts as "no", so
// piped invocations get the safe default instead of a terminal failure.
func askConfirm(question string) (bool, error) {
	var answer bool
	prompt := &survey.Confirm{
		Message: question,
		Default: false,
	}
	if err := survey.AskOne(prompt, &answer); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return false, err
		}
		return false, nil
	}
	return answer, nil
}
