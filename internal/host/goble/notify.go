package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/gatt"
)

// subscriber is one peer subscription to one characteristic.
type subscriber struct {
	ref  gatt.Ref
	peer string
	seq  uint64
	ch   chan []byte
}

// offer queues value, dropping the oldest pending value when full.
func (sub *subscriber) offer(value []byte) bool {
	for {
		select {
		case sub.ch <- value:
			return true
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

func (s *Stack) notifyHandler(ref gatt.Ref) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		sub := &subscriber{
			ref:  ref,
			peer: peerAddress(req),
			seq:  s.seq.Add(1),
			ch:   make(chan []byte, s.opts.SubscriberBuffer),
		}
		key := fmt.Sprintf("%s#%d", ref, sub.seq)
		s.subscribers.Set(key, sub)
		defer s.subscribers.Del(key)

		log := s.logger.WithFields(logrus.Fields{
			"char": ref.String(),
			"peer": sub.peer,
		})
		log.Info("Notifications subscribed")

		for {
			select {
			case <-n.Context().Done():
				log.Info("Notifications unsubscribed")
				return
			case value := <-sub.ch:
				if c := n.Cap(); c > 0 && len(value) > c {
					value = value[:c]
				}
				if _, err := n.Write(value); err != nil {
					log.WithError(err).Warn("Failed to notify, dropping subscription")
					return
				}
			}
		}
	})
}

// NotifyChanged implements gatt.Notifier. It never blocks; peers that are
// not subscribed never see the value.
func (s *Stack) NotifyChanged(ref gatt.Ref, value []byte) {
	var targets []*subscriber
	s.subscribers.Range(func(_ string, sub *subscriber) bool {
		if sub.ref != ref {
			return true
		}
		if s.opts.LatestPeerOnly && len(targets) > 0 {
			if sub.seq > targets[0].seq {
				targets[0] = sub
			}
			return true
		}
		targets = append(targets, sub)
		return true
	})

	for _, sub := range targets {
		sub.offer(append([]byte(nil), value...))
	}
}

// Subscribers returns the number of active subscriptions to ref.
func (s *Stack) Subscribers(ref gatt.Ref) int {
	n := 0
	s.subscribers.Range(func(_ string, sub *subscriber) bool {
		if sub.ref == ref {
			n++
		}
		return true
	})
	return n
}

func peerAddress(req ble.Request) string {
	if req == nil || req.Conn() == nil || req.Conn().RemoteAddr() == nil {
		return "unknown"
	}
	return req.Conn().RemoteAddr().String()
}
