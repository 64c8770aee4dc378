package config

const (
	defaultDataDir            = "~/.local/share/vidmill/data"
	defaultLogDir             = "~/.local/share/vidmill/logs"
	defaultAPIBind            = "127.0.0.1:8000"
	defaultMonitorBind        = "127.0.0.1:5555"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 10
	defaultLeaseTTL           = 120
	defaultHeartbeatInterval  = 15
	defaultLivenessWindow     = 60
	defaultSweepInterval      = 300
	defaultTerminalAgeHours   = 24
	defaultIncomingAgeHours   = 24
	defaultPurgeRecordsDays   = 30
	defaultMinFreeSpaceMB     = 512
	defaultSubmitRatePerSec   = 5
	defaultSubmitBurst        = 10
	defaultFFmpegBin          = "ffmpeg"
	defaultFFprobeBin         = "ffprobe"
	defaultTranscriberBin     = "whisper-ctl"
	defaultThumbnailCount     = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
			MonitorBind: defaultMonitorBind,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			LeaseTTL:           defaultLeaseTTL,
			HeartbeatInterval:  defaultHeartbeatInterval,
			LivenessWindow:     defaultLivenessWindow,
			Workers: map[string]int{
				"cpu": 2,
				"gpu": 1,
			},
		},
		Retention: Retention{
			SweepInterval:    defaultSweepInterval,
			TerminalAgeHours: defaultTerminalAgeHours,
			IncomingAgeHours: defaultIncomingAgeHours,
			PurgeRecordsDays: defaultPurgeRecordsDays,
			MinFreeSpaceMB:   defaultMinFreeSpaceMB,
			SubmitRatePerSec: defaultSubmitRatePerSec,
			SubmitBurst:      defaultSubmitBurst,
		},
		Tools: Tools{
			FFmpegBin:      defaultFFmpegBin,
			FFprobeBin:     defaultFFprobeBin,
			TranscriberBin: defaultTranscriberBin,
			ThumbnailCount: defaultThumbnailCount,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
