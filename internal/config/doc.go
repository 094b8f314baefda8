// Package config defines the settings used by the updater and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type pins which repository and branch the release feed is
// fetched from, the hardware parameters handed to the flashing tool
// (chip, baud rate, OTA partition offset), and the network timeout.
// Every field has a default, so the tool runs without a settings file.
package config
