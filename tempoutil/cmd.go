/*
Copyright © 2024 the tempo authors.
This file is part of tempo.

tempo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tempo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tempo.  If not, see <http://www.gnu.org/licenses/>.
*/

package tempoutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tempo"
	"github.com/spatialmodel/tempo/catalog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	def := tempo.DefaultConfig()

	// Options are the configuration options available to tempo.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "envfile",
			usage: `
              envfile is a file of KEY=value lines that are added to the
              environment before the configuration is read. It is skipped
              if it does not exist.`,
			defaultVal: ".env",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "debug",
			usage: `
              debug enables debug logging.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "directory",
			usage: `
              directory is the directory holding the input granules.`,
			shorthand:  "d",
			defaultVal: "./data",
			flagsets:   []*pflag.FlagSet{processCmd.Flags(), searchCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the directory the measurement images and metadata
              are written to.`,
			shorthand:  "o",
			defaultVal: def.OutputDir,
			flagsets:   []*pflag.FlagSet{processCmd.Flags(), publishCmd.Flags()},
		},
		{
			name: "cloud-dir",
			usage: `
              cloud-dir is the directory the cloud images and metadata are
              written to.`,
			defaultVal: def.CloudOutputDir,
			flagsets:   []*pflag.FlagSet{processCmd.Flags(), publishCmd.Flags()},
		},
		{
			name: "do-clouds",
			usage: `
              do-clouds specifies whether cloud images are created
              (or published) in addition to measurement images.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags(), publishCmd.Flags()},
		},
		{
			name: "quality",
			usage: `
              quality is the quality policy used to mask pixels. Valid
              values are high, medium, low, svs and all.`,
			shorthand:  "q",
			defaultVal: def.Policy.String(),
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "sample",
			usage: `
              sample specifies whether only the first 10 input granules
              are processed.`,
			shorthand:  "s",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "pattern",
			usage: `
              pattern is the glob pattern, relative to directory, that
              selects input granules. If empty, it is built from level and
              version.`,
			shorthand:  "p",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "level",
			usage: `
              level is the processing level of the input granules.`,
			shorthand:  "l",
			defaultVal: "3",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "version",
			usage: `
              version is the product version of the input granules.`,
			shorthand:  "v",
			defaultVal: "3",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "name",
			usage: `
              name identifies the run in metadata file names. It defaults
              to the name of the input directory.`,
			shorthand:  "n",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "suffix",
			usage: `
              suffix is appended to image and times file names.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "runid",
			usage: `
              runid is included in metadata file names. If empty, it is
              derived from the run inputs.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "singlethreaded",
			usage: `
              singlethreaded specifies whether chunks are processed one
              at a time.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "workers",
			usage: `
              workers is the number of chunks processed at once.`,
			defaultVal: def.Workers,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "dry-run",
			usage: `
              dry-run runs every step but writes no files.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags(), searchCmd.Flags(), publishCmd.Flags()},
		},
		{
			name: "text-only",
			usage: `
              text-only writes the metadata files and no images.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "no-reproject",
			usage: `
              no-reproject keeps images on the geographic grid of the
              granules instead of reprojecting them to Web Mercator.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "method",
			usage: `
              method is the resampling method used for reprojection.
              Valid values are nearest, bilinear, cubic, average, sum
              and median. Unknown values fall back to average.`,
			defaultVal: def.Method.String(),
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "cmap",
			usage: `
              cmap is the colormap of the measurement images.`,
			defaultVal: "no2",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "vmin",
			usage: `
              vmin is the measurement value, in units of 1e16
              molecules/cm², mapped to the bottom of the colormap.`,
			defaultVal: def.VMin,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "vmax",
			usage: `
              vmax is the measurement value mapped to the top of the
              colormap.`,
			defaultVal: def.VMax,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "cloud-cmap",
			usage: `
              cloud-cmap is the colormap of the cloud images.`,
			defaultVal: "cloud",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "cloud-vmin",
			usage: `
              cloud-vmin is the cloud fraction mapped to the bottom of the
              cloud colormap.`,
			defaultVal: def.CloudVMin,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "cloud-vmax",
			usage: `
              cloud-vmax is the cloud fraction mapped to the top of the
              cloud colormap.`,
			defaultVal: def.CloudVMax,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "overwrite",
			usage: `
              overwrite specifies whether existing images (or published
              objects) are replaced.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags(), publishCmd.Flags()},
		},
		{
			name: "compress",
			usage: `
              compress is the command run in the background to recompress
              each saved image. {} is replaced by the image path. Set it to
              an empty value to disable recompression.`,
			defaultVal: def.Compress,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "catalog-url",
			usage: `
              catalog-url is the address of the granule search service.`,
			defaultVal: catalog.DefaultBaseURL,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "concept-id",
			usage: `
              concept-id identifies the granule collection to search.`,
			defaultVal: catalog.DefaultConceptID,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "manifest",
			usage: `
              manifest is the address of the manifest of released images.
              Its last timestamp is the search start if start is empty.`,
			defaultVal: catalog.DefaultManifestURL,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "start",
			usage: `
              start is the beginning of the search window, for example
              2024-03-28T12:00:00Z.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "end",
			usage: `
              end is the end of the search window. It defaults to the
              current time.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "download-list",
			usage: `
              download-list is the file the URLs of new granules are
              written to, one per line. If empty, they are printed.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "only-one",
			usage: `
              only-one limits the download list to the first new granule.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name: "bucket",
			usage: `
              bucket is the blob storage location that images are
              published to, for example gs://bucket/path, s3://bucket/path
              or file:///path.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{publishCmd.Flags()},
		},
		{
			name: "prefix",
			usage: `
              prefix is prepended to the keys of published objects.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{publishCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("TEMPO")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(processCmd)
	Root.AddCommand(searchCmd)
	Root.AddCommand(publishCmd)
}

// setConfig loads the environment file and then finds and reads in the
// configuration file, if there is one.
func setConfig() error {
	if envfile := Cfg.GetString("envfile"); envfile != "" {
		if _, err := os.Stat(envfile); err == nil {
			if err := godotenv.Load(envfile); err != nil {
				return fmt.Errorf("tempoutil: problem reading environment file: %v", err)
			}
		}
	}
	if cfgpath := os.ExpandEnv(Cfg.GetString("config")); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("tempoutil: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// setLogging configures the standard logger.
func setLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if Cfg.GetBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "tempo",
	Short: "Turn TEMPO NO₂ granules into map tiles.",
	Long: `tempo turns hourly TEMPO level 3 tropospheric NO₂ granules into
quality-filtered, cloud-masked palette PNG images and the metadata files
a web viewer needs to display them.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'TEMPO_VAR' where 'VAR' is the
name of the variable to be set, in upper case and with dashes replaced by
underscores. Path variables are additionally allowed to contain environment
variables within them.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		setLogging()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of tempo.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("tempo v%s\n", tempo.Version)
	},
	DisableAutoGenTag: true,
}

// processCmd turns a directory of granules into images.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Create images and metadata from granules.",
	Long: `process reads every granule in directory that matches pattern, masks
low quality pixels, and writes a full and a half resolution image of each
time step along with the bounds, times and field of regard of the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Process(cmd.Context(), Cfg, cmd.ErrOrStderr(), logrus.StandardLogger())
	},
	DisableAutoGenTag: true,
}

// searchCmd lists granules that have not been released yet.
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List new granules available for download.",
	Long: `search queries the granule catalog for granules acquired between start
and end and writes the download URLs of those that are newer than the last
released image and not already present in directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := Search(cmd.Context(), Cfg, cmd.OutOrStdout(), logrus.StandardLogger())
		return err
	},
	DisableAutoGenTag: true,
}

// publishCmd uploads the output directories to blob storage.
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Copy images and metadata to blob storage.",
	Long: `publish uploads the contents of the output directory, and the cloud
directory if do-clouds is set, to bucket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Publish(cmd.Context(), Cfg, logrus.StandardLogger())
	},
	DisableAutoGenTag: true,
}
