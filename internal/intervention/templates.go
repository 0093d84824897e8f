// ABOUTME: Static provider-agnostic response templates per intervention level
// ABOUTME: Level 3 always includes human crisis-support contact channels

package intervention

// Response templates. These are static and provider-agnostic; no model is
// ever called to produce them.
const (
	// standardTemplate answers level-1 interceptions.
	standardTemplate = "It sounds like you're going through something really difficult right now. " +
		"You don't have to face this alone. If you'd like to talk to someone, " +
		"support is available - and it's okay to reach out. " +
		"Would you like to keep writing, or take a moment first?"

	// ackTemplate answers level-2 interceptions and requires the client to
	// acknowledge before further reflection is offered for the entry.
	ackTemplate = "What you've written suggests you may be in real distress. " +
		"Before we continue, please take a moment: if you are in immediate danger, " +
		"contact your local emergency number. To continue with reflections on this " +
		"entry, please confirm that you've read this message."

	// limitedTemplate answers every request while limited mode is active.
	// It must always name at least one human support channel.
	limitedTemplate = "Automatic reflections are paused for now so you can get support " +
		"from a real person. You can reach the 988 Suicide & Crisis Lifeline by " +
		"calling or texting 988 (US), or find international helplines at " +
		"findahelpline.com. Your journal stays private and you can keep writing - " +
		"reflections will return later."
)
