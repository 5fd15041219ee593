// Package keyboard injects key presses into the host through a virtual input device.
//
// On Linux the device is a uinput keyboard created with keybd_event. Other
// platforms get ErrUnsupported from Open and fall back to LogDevice.
package keyboard
