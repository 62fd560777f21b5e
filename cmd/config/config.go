package config

import (
	"log/slog"
	"os"

	"github.com/crosswire-audio/crosswire/internal/utils"
	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")

	viper.SetDefault("samplerate", 48000)
	viper.SetDefault("framesperblock", 128)
	viper.SetDefault("bitresolution", 16)
	viper.SetDefault("channelsin", 2)
	viper.SetDefault("channelsout", 2)
	viper.SetDefault("inputmixmode", "stereo")

	viper.SetDefault("queuelength", 4)
	viper.SetDefault("strategy", "pool")
	viper.SetDefault("underrunpolicy", "zeros")

	// The demo link: "loopback" runs entirely in process, "webrtc" dials
	// two local peers together over a real unreliable data channel.
	viper.SetDefault("transport", "loopback")
	viper.SetDefault("simulatedloss", 0.0)

	viper.SetDefault("inputwav", "input.wav")
	viper.SetDefault("outputwav", "received_audio.wav")
}

func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else if os.IsNotExist(err) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}
}

// Configure the default slog logger from the loaded config.
// Returns the log file pointer (possibly nil) so it may be closed at shutdown.
func ConfigureLogger() *os.File {
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error during logger configuration", "err", err)
		panic(err)
	}
	return logFilePointer
}
