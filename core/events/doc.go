// Package events defines the vocabulary shared between the event loop, its
// producers and the turn-taking state machine.
//
// Events describe something that already happened and are stamped by their
// producer. Actions describe something the loop should do next; they never
// change conversation state themselves.
//
// stream events
//
//   - MediaReceived (stream.media_received): inbound audio chunk.
//   - StreamStarted (stream.started): transport stream is up; carries call
//     and stream ids.
//   - StreamStopped (stream.stopped): transport stream ended, or a transport
//     or recognizer failure severed it.
//   - MaxDurationExpired (stream.max_duration_expired): call duration limit.
//
// turn events
//
//   - TurnStarted (turn_detection.started): remote party began speaking.
//   - TurnEnded (turn_detection.ended): remote party finished; carries the
//     final transcript.
//   - AgentTurnDone (agent_turn.done): a response cycle reached its terminal
//     state; carries its birth generation.
//
// actions
//
//   - FeedRecognizer, StartAgentTurn, SendFirstMessage, ResetAgentTurn and
//     EndStream.
package events
