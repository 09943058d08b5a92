package chip

// DMARequest is a peripheral DMA request signal.
type DMARequest uint8

// Peripheral DMA requests.
const (
	ReqSPI1RX DMARequest = iota
	ReqSPI1TX
	ReqSPI2RX
	ReqSPI2TX
	ReqSPI3RX
	ReqSPI3TX
	ReqUSART1RX
	ReqUSART1TX
	ReqUSART2RX
	ReqUSART2TX
	ReqUSART6RX
	ReqUSART6TX
	ReqI2C1RX
	ReqI2C1TX
	ReqI2C3RX
	ReqI2C3TX
	ReqADC1
	ReqDAC1
	ReqDAC2
	ReqTIM1UP
	ReqTIM2UP
	ReqTIM3UP
	ReqQSPI
)

// DMASlot is one (controller, stream, channel) routing of a request.
type DMASlot struct {
	Controller uint8
	Stream     uint8
	Channel    uint8
}

var dmaMap = map[DMARequest][]DMASlot{
	ReqSPI1RX:   {{2, 0, 3}, {2, 2, 3}},
	ReqSPI1TX:   {{2, 3, 3}, {2, 5, 3}},
	ReqSPI2RX:   {{1, 3, 0}},
	ReqSPI2TX:   {{1, 4, 0}},
	ReqSPI3RX:   {{1, 0, 0}, {1, 2, 0}},
	ReqSPI3TX:   {{1, 5, 0}, {1, 7, 0}},
	ReqUSART1RX: {{2, 2, 4}, {2, 5, 4}},
	ReqUSART1TX: {{2, 7, 4}},
	ReqUSART2RX: {{1, 5, 4}},
	ReqUSART2TX: {{1, 6, 4}},
	ReqUSART6RX: {{2, 1, 5}, {2, 2, 5}},
	ReqUSART6TX: {{2, 6, 5}, {2, 7, 5}},
	ReqI2C1RX:   {{1, 0, 1}, {1, 5, 1}},
	ReqI2C1TX:   {{1, 6, 1}, {1, 7, 1}},
	ReqI2C3RX:   {{1, 2, 3}},
	ReqI2C3TX:   {{1, 4, 3}},
	ReqADC1:     {{2, 0, 0}, {2, 4, 0}},
	ReqDAC1:     {{1, 5, 7}},
	ReqDAC2:     {{1, 6, 7}},
	ReqTIM1UP:   {{2, 5, 6}},
	ReqTIM2UP:   {{1, 1, 3}, {1, 7, 3}},
	ReqTIM3UP:   {{1, 2, 5}},
	ReqQSPI:     {{2, 7, 3}},
}

// Slots returns the streams that can serve r, preferred first.
func (r DMARequest) Slots() []DMASlot { return dmaMap[r] }

// Serves reports whether slot s carries request r.
func (r DMARequest) Serves(s DMASlot) bool {
	for _, x := range dmaMap[r] {
		if x == s {
			return true
		}
	}
	return false
}

// RequestAt returns the request routed to (controller, stream, channel).
func RequestAt(s DMASlot) (DMARequest, bool) {
	for r, slots := range dmaMap {
		for _, x := range slots {
			if x == s {
				return r, true
			}
		}
	}
	return 0, false
}
