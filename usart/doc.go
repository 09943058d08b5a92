// Package usart drives the USART1/2/3/6 blocks in asynchronous mode.
//
// A [UART] sends and receives 7E1, 8N1, 8E1/8O1 and 9N1 frames at a baud
// rate programmed through the fractional divisor, full or half duplex.
// It is an io.Reader and io.Writer, so the usual bufio and fmt helpers
// work on it directly.
package usart
