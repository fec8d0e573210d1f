package rpc

import (
	jsoniter "github.com/json-iterator/go"

	"aclrelay/acllog"
	"aclrelay/libs/metric"
	"aclrelay/membership"
	"aclrelay/relay"
	"aclrelay/store"
)

var (
	env  *Environment
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

func SetEnvironment(e *Environment) {
	env = e
}

type Environment struct {
	Reactor    *relay.Reactor
	Store      store.Store
	Log        *acllog.Log
	Membership *membership.Tracker

	MetricSet *metric.MetricSet
}
