package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/rendering"
	"github.com/simbotics/simsense/simage"
	"github.com/simbotics/simsense/utils"
)

// ScenesListAction prints the registered scene names.
func ScenesListAction(c *cli.Context) error {
	for _, name := range rendering.SceneNames() {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}

// ScenesRenderAction renders one frame of a scene directly, without building
// a world, and writes the color image plus a colorized depth image.
func ScenesRenderAction(c *cli.Context) error {
	width := c.Int(scenesFlagWidth)
	height := c.Int(scenesFlagHeight)
	if width <= 0 || height <= 0 {
		return errors.Errorf("image size %dx%d is not renderable", width, height)
	}
	near := c.Float64(scenesFlagNear)
	far := c.Float64(scenesFlagFar)
	if near <= 0 || far <= near {
		return errors.Errorf("need 0 < near < far, got near=%g far=%g", near, far)
	}
	out := c.Path(scenesFlagOutput)
	mimeType, _, err := mimeTypeForFormat(strings.TrimPrefix(filepath.Ext(out), "."))
	if err != nil {
		return errors.Wrap(err, "output extension picks the color format")
	}

	scene, err := rendering.NewScene(c.String(scenesFlagScene), nil)
	if err != nil {
		return err
	}
	at := c.Duration(scenesFlagAt)

	colorBuf := make([]byte, 3*width*height)
	scene.RenderColor(colorBuf, width, height, at)
	colorImg, err := simage.ImageFromStamped(msgs.ImageStamped{
		Time:  msgs.NewTime(at),
		Image: msgs.NewImage(width, height, msgs.RGB24, colorBuf),
	})
	if err != nil {
		return err
	}
	encoded, err := simage.EncodeImage(c.Context, colorImg, mimeType)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, encoded, 0o640); err != nil {
		return err
	}

	depthBuf := make([]float32, width*height)
	scene.RenderDepth(depthBuf, width, height, at, near, far)
	dm, err := simage.DepthMapFromFloats(depthBuf, width, height, prettyDepthScaleM, near, far)
	if err != nil {
		return err
	}
	depthOut := strings.TrimSuffix(out, filepath.Ext(out)) + "_depth.png"
	encodedDepth, err := simage.EncodeImage(c.Context, dm.ToPrettyPicture(0, 0), utils.MimeTypePNG)
	if err != nil {
		return err
	}
	if err := os.WriteFile(depthOut, encodedDepth, 0o640); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "wrote %s and %s\n", out, depthOut)
	return nil
}
