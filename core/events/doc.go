// Package events defines the device and user events carried on the event bus.
//
// Available event types:
//   - WallSwitchEvent: a button press on the wall switch
//   - SetCurrentEvent: the current a wallbox reports as configured
//   - ModeChangedEvent: a location switched charge mode
package events
