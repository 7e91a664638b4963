// Package serial carries OTGW text lines over a serial port.
//
// The gateway prints one line per observed OpenTherm frame ("B40190000")
// and answers commands with short replies ("CS: 45.00"). A Link opens the
// device 8N1 (9600 baud by default), hands every received line to the
// engine through a channel and reopens the device with exponential backoff
// after errors.
//
// Usage:
//
//	link := serial.New(serial.Config{Port: "/dev/ttyUSB0"})
//	link.SetLogger(log)
//	go link.Run(ctx)
//	for line := range link.Lines() {
//	    ...
//	}
package serial
