package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ JobStore        = (*MemoryJobStore)(nil)
	_ JobStackStore   = (*MemoryJobStackStore)(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ MetricsRecorder = NopMetricsRecorder{}
	_ AuthDataCodec   = JSONAuthDataCodec{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
