// Package device discovers robot controllers attached through USB serial
// bridges and resolves which port a run should flash. Discovery filters by
// the bridge chips the hardware family ships with; resolution follows a
// fixed zero/one/many policy and never guesses.
package device
