package devserver_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/realtime-chat/client/internal/devserver"
	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
)

func newServer(t *testing.T) (*devserver.Server, *httptest.Server) {
	t.Helper()
	srv := devserver.New(devserver.Config{JWTSecret: "test", BcryptCost: bcrypt.MinCost}, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func signup(t *testing.T, base, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret1"}
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, base+"/api/register", "", creds, nil))

	var login struct {
		Token    string `json:"token"`
		Username string `json:"username"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/api/login", "", creds, &login))
	require.Equal(t, username, login.Username)
	require.NotEmpty(t, login.Token)
	return login.Token
}

func dial(t *testing.T, base, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(base, "http") + "/api/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func waitOnline(t *testing.T, base string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		var body struct {
			Count int `json:"count"`
		}
		doJSON(t, http.MethodGet, base+"/api/users/online", "", nil, &body)
		return body.Count == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRegisterLoginErrors(t *testing.T) {
	_, ts := newServer(t)
	signup(t, ts.URL, "alice")

	var body map[string]string
	status := doJSON(t, http.MethodPost, ts.URL+"/api/register", "", map[string]string{"username": "alice", "password": "secret1"}, &body)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Username already exists", body["error"])

	status = doJSON(t, http.MethodPost, ts.URL+"/api/login", "", map[string]string{"username": "alice", "password": "nope"}, &body)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Invalid credentials", body["error"])

	status = doJSON(t, http.MethodPost, ts.URL+"/api/register", "", map[string]string{"username": "bob", "password": "123"}, &body)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestChatBroadcastAndHistory(t *testing.T) {
	_, ts := newServer(t)
	aliceToken := signup(t, ts.URL, "alice")
	bobToken := signup(t, ts.URL, "bob")

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPut, ts.URL+"/api/profile/", bobToken, profile.UpdateRequest{Nickname: "Bobby"}, nil))

	alice := dial(t, ts.URL, aliceToken)
	bob := dial(t, ts.URL, bobToken)
	waitOnline(t, ts.URL, 2)

	require.NoError(t, bob.WriteJSON(chat.NewTypingEvent("bob", true)))
	typing := readFrame(t, alice)
	require.Equal(t, "typing_start", typing["type"])
	require.Equal(t, "bob", typing["username"])
	readFrame(t, bob)

	require.NoError(t, bob.WriteJSON(chat.NewChatFrame("bob", "  hello  ", time.Now())))
	for _, conn := range []*websocket.Conn{alice, bob} {
		stop := readFrame(t, conn)
		require.Equal(t, "typing_stop", stop["type"])
		require.Equal(t, "Bobby", stop["username"])

		msg := readFrame(t, conn)
		require.Equal(t, "Bobby", msg["username"])
		require.Equal(t, "hello", msg["content"])
		_, err := time.ParseInLocation(chat.ServerTimeLayout, msg["timestamp"].(string), time.Local)
		require.NoError(t, err)
	}

	// Blank content is dropped.
	require.NoError(t, alice.WriteJSON(chat.NewChatFrame("alice", "   ", time.Now())))
	require.NoError(t, alice.WriteJSON(chat.NewChatFrame("alice", "second", time.Now())))
	readFrame(t, bob)
	require.Equal(t, "second", readFrame(t, bob)["content"])

	var history struct {
		Messages []chat.Message `json:"messages"`
		Count    int            `json:"count"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/messages?limit=1", "", nil, &history))
	require.Equal(t, 1, history.Count)
	require.Equal(t, "second", history.Messages[0].Content)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/messages", "", nil, &history))
	require.Equal(t, 2, history.Count)
	require.Equal(t, "Bobby", history.Messages[0].Username)
	require.Equal(t, "hello", history.Messages[0].Content)
	require.Equal(t, "alice", history.Messages[1].Username)
}

func TestOnlineUsersTracksConnections(t *testing.T) {
	_, ts := newServer(t)
	token := signup(t, ts.URL, "alice")

	conn := dial(t, ts.URL, token)
	dial(t, ts.URL, "")
	waitOnline(t, ts.URL, 2)

	var body struct {
		Users []chat.OnlineUser `json:"users"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/users/online", "", nil, &body)
	names := []string{body.Users[0].Username, body.Users[1].Username}
	require.ElementsMatch(t, []string{"alice", devserver.AnonymousUser}, names)

	require.NoError(t, conn.Close())
	waitOnline(t, ts.URL, 1)
}

func TestProfileRequiresToken(t *testing.T) {
	_, ts := newServer(t)
	var body map[string]string
	require.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, ts.URL+"/api/profile/", "", nil, &body))
	require.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, ts.URL+"/api/profile/", "garbage", nil, &body))
	require.Equal(t, "Invalid token", body["error"])
}

func TestPasswordChange(t *testing.T) {
	_, ts := newServer(t)
	token := signup(t, ts.URL, "alice")

	var body map[string]string
	status := doJSON(t, http.MethodPut, ts.URL+"/api/profile/password", token,
		profile.PasswordChange{CurrentPassword: "wrong1", NewPassword: "secret2"}, &body)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Current password is incorrect", body["error"])

	status = doJSON(t, http.MethodPut, ts.URL+"/api/profile/password", token,
		profile.PasswordChange{CurrentPassword: "secret1", NewPassword: "short"}, &body)
	require.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodPut, ts.URL+"/api/profile/password", token,
		profile.PasswordChange{CurrentPassword: "secret1", NewPassword: "secret2"}, &body)
	require.Equal(t, http.StatusOK, status)

	status = doJSON(t, http.MethodPost, ts.URL+"/api/login", "", map[string]string{"username": "alice", "password": "secret2"}, nil)
	require.Equal(t, http.StatusOK, status)
}

func uploadAvatar(t *testing.T, base, token, filename string, data []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(profile.AvatarFormField, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, base+"/api/profile/avatar", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// gifPixel is a 1x1 transparent GIF.
var gifPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func TestAvatarUpload(t *testing.T) {
	_, ts := newServer(t)
	token := signup(t, ts.URL, "alice")

	status, body := uploadAvatar(t, ts.URL, token, "notes.txt", []byte("plain text is not an image"))
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["error"], "Only JPG")

	status, body = uploadAvatar(t, ts.URL, token, "me.gif", gifPixel)
	require.Equal(t, http.StatusOK, status)
	url, _ := body["avatar_url"].(string)
	require.True(t, strings.HasPrefix(url, "/static/uploads/avatars/avatar_"))
	require.True(t, strings.HasSuffix(url, ".gif"))

	resp, err := http.Get(ts.URL + url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	var public profile.Profile
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/users/alice/profile", "", nil, &public))
	require.Equal(t, url, public.Avatar)
	require.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/users/ghost/profile", "", nil, nil))
}
