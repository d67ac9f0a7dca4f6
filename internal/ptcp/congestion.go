package ptcp

import "time"

// rtoFloor, rtoCeiling, and the pre-established cap are the RTO bounds from
// SPEC_FULL.md §4.4.
const (
	rtoFloor           = 250 * time.Millisecond
	rtoCeiling         = 60000 * time.Millisecond
	rtoCeilingPreEstab = 3000 * time.Millisecond
	rtoInitial         = 3000 * time.Millisecond
)

// boundRTO clamps d to [rtoFloor, ceiling].
func boundRTO(d, ceiling time.Duration) time.Duration {
	if d < rtoFloor {
		return rtoFloor
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// rttSample is the SRTT/RTTVAR/RTO update on a fresh RTT measurement
// (SPEC_FULL.md §4.4), the Jacobson/Karels estimator. first is true only for
// the very first sample taken by a control block.
func rttSample(first bool, srtt, rttvar, rtt time.Duration) (newSRTT, newRTTVar, newRTO time.Duration) {
	if first {
		newSRTT = rtt
		newRTTVar = rtt / 2
	} else {
		diff := rtt - srtt
		if diff < 0 {
			diff = -diff
		}
		newRTTVar = (3*rttvar + diff) / 4
		newSRTT = (7*srtt + rtt) / 8
	}

	dev := 4 * newRTTVar
	if dev < time.Millisecond {
		dev = time.Millisecond
	}
	newRTO = boundRTO(newSRTT+dev, rtoCeiling)
	return newSRTT, newRTTVar, newRTO
}

// rtoOnTimeout computes the post-timeout congestion state (SPEC_FULL.md
// §4.4): ssthresh halves inflight (floored at 2*mss), cwnd resets to one
// segment, and rx_rto doubles under a phase-dependent ceiling.
func rtoOnTimeout(inflight, mss uint32, rxRTO time.Duration, established bool) (ssthresh, cwnd uint32, newRTO time.Duration) {
	ssthresh = inflight / 2
	if ssthresh < 2*mss {
		ssthresh = 2 * mss
	}
	cwnd = mss

	ceiling := rtoCeiling
	if !established {
		ceiling = rtoCeilingPreEstab
	}
	newRTO = boundRTO(2*rxRTO, ceiling)
	return ssthresh, cwnd, newRTO
}

// cwndOnGoodAck advances cwnd for one successfully-acknowledged segment
// under NewReno slow start / congestion avoidance (SPEC_FULL.md §4.4).
func cwndOnGoodAck(cwnd, ssthresh, mss uint32) uint32 {
	if cwnd < ssthresh {
		return cwnd + mss
	}
	inc := mss * mss / cwnd
	if inc < 1 {
		inc = 1
	}
	return cwnd + inc
}

// recoveryEnter computes the congestion state entered on the 3rd duplicate
// ack (SPEC_FULL.md §4.4 NewReno fast retransmit).
func recoveryEnter(sndNxt, inflight, mss uint32) (recover, ssthresh, cwnd uint32) {
	recover = sndNxt
	ssthresh = inflight / 2
	if ssthresh < 2*mss {
		ssthresh = 2 * mss
	}
	cwnd = ssthresh + 3*mss
	return recover, ssthresh, cwnd
}

// recoveryInflate is applied on each additional duplicate ack while in
// recovery.
func recoveryInflate(cwnd, mss uint32) uint32 { return cwnd + mss }

// recoveryExit computes the cwnd on exiting recovery once an ack reaches or
// passes recover.
func recoveryExit(ssthresh, inflight, mss uint32) uint32 {
	candidate := inflight + mss
	if ssthresh < candidate {
		return ssthresh
	}
	return candidate
}

// effectiveWindow applies NewReno's Limited Transmit bonus: while 1 or 2
// duplicate acks have been seen, the usable window is widened by
// dupAcks*mss (SPEC_FULL.md §4.4).
func effectiveWindow(cwnd uint32, dupAcks int, mss uint32) uint32 {
	if dupAcks == 1 || dupAcks == 2 {
		return cwnd + uint32(dupAcks)*mss
	}
	return cwnd
}
