// Command bigeye captures from a USB video device through the bigeyesrc
// element: inspect caps and devices, pull frames to disk, or serve a live
// preview with metrics and health reporting.
package main

import "github.com/Banakin/gst-plugin-bigeye/cmd/bigeye/commands"

func main() {
	commands.Execute()
}
