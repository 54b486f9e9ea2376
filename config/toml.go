package config

import (
	"bytes"
	_ "embed"
	"path/filepath"
	"text/template"

	cmtconfig "github.com/cometbft/cometbft/config"
	"github.com/cometbft/cometbft/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0o700

var appTemplate *template.Template

func init() {
	var err error
	if appTemplate, err = template.New("appFileTemplate").Parse(defaultAppTemplate); err != nil {
		panic(err)
	}
}

// WriteConfigFile writes config.toml to configFilePath and app.toml next
// to it.
func WriteConfigFile(configFilePath string, config *Config) {
	cmtconfig.WriteConfigFile(configFilePath, config.Config)
	WriteAppConfigFile(filepath.Join(filepath.Dir(configFilePath), AppConfigFile), config.App)
}

func WriteAppConfigFile(appFilePath string, app *AppConfig) {
	var buffer bytes.Buffer

	if err := appTemplate.Execute(&buffer, app); err != nil {
		panic(err)
	}

	os.MustWriteFile(appFilePath, buffer.Bytes(), 0o644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in AppConfig in config/config.go.
//
//go:embed app.toml.tpl
var defaultAppTemplate string
