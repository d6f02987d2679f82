package qos

import "errors"

var ErrInvalidQoS = errors.New("invalid QoS level")
