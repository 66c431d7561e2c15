package config

const (
	defaultConfigPath           = "~/.config/cycaxworker/config.toml"
	defaultStagingDir           = "/tmp/cycax_blender_worker"
	defaultStateDir             = "~/.local/share/cycaxworker"
	defaultLogDir               = "~/.local/share/cycaxworker/logs"
	defaultRequestTimeout       = 20
	defaultTaskName             = "blender"
	defaultPollInterval         = 10
	defaultErrorRetryInterval   = 20
	defaultUploadAttempts       = 3
	defaultUploadRetryDelay     = 3
	defaultCompletionMinUploads = 2
	defaultSceneEngine          = SceneEngineBlender
	defaultBlenderBinary        = "blender"
	defaultSceneTimeout         = 600
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Scene engine identifiers accepted by scene.engine.
const (
	SceneEngineBlender  = "blender"
	SceneEngineManifest = "manifest"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			RequestTimeout: defaultRequestTimeout,
		},
		Paths: Paths{
			StagingDir: defaultStagingDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Worker: Worker{
			TaskName:           defaultTaskName,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Upload: Upload{
			Attempts:             defaultUploadAttempts,
			RetryDelay:           defaultUploadRetryDelay,
			CompletionMinUploads: defaultCompletionMinUploads,
		},
		Scene: Scene{
			Engine:        defaultSceneEngine,
			BlenderBinary: defaultBlenderBinary,
			Timeout:       defaultSceneTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
