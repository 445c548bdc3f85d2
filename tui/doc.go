// Package tui is the terminal front end of the chat.
//
// [Run] drives a bubbletea [Model] with two modes. In Normal mode the
// message list is navigated (j/k or the arrows, Home, End, Left to
// unselect) and q quits. In Editing mode, entered with i and left with
// Esc, Enter sends the typed line and echoes it locally.
//
// The view never touches the session. Typed lines go out on the ui-to-net
// channel, formatted messages come in on net-to-ui. Sends happen one at
// a time from a command, so a full channel stalls delivery but not the
// view.
//
// [RunPlain] offers the same contract over plain line I/O.
package tui
