// Package flasher drives the external esptool flashing capability: locating
// or provisioning the tool, writing firmware images to the device's OTA
// partition, and restarting the device afterwards. The tool's own wire
// protocol to the bootloader stays opaque behind a subprocess boundary.
package flasher
